// Copyright 2026 The ilogtail-sub016 Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pathmatch

import (
	"regexp"
	"strings"
	"sync"
)

// globCache memoizes compiled glob patterns: the same blacklist/
// whitelist pattern is evaluated against every candidate path on every
// Timer tick, so recompiling a regexp per call would dominate the scan.
var globCache sync.Map // map[string]*regexp.Regexp

// matchGlob reports whether name matches the shell-style glob pattern.
// '*' matches any run of characters except '/' unless allowSlashInStar
// is set (the multi-level wildcard case, where "**" is allowed to
// cross directory boundaries). '?' matches exactly one character
// (never '/').
func matchGlob(pattern, name string, allowSlashInStar bool) bool {
	key := pattern
	if allowSlashInStar {
		key = "ml:" + pattern
	} else {
		key = "pl:" + pattern
	}
	if cached, ok := globCache.Load(key); ok {
		return cached.(*regexp.Regexp).MatchString(name)
	}
	re := regexp.MustCompile(compileGlob(pattern, allowSlashInStar))
	globCache.Store(key, re)
	return re.MatchString(name)
}

// compileGlob translates a shell-style glob into an anchored regexp.
// A trailing "/**" also matches the directory itself, so "dir/**"
// covers dir and its whole subtree.
func compileGlob(pattern string, allowSlashInStar bool) string {
	suffix := "$"
	if strings.HasSuffix(pattern, "/**") {
		pattern = strings.TrimSuffix(pattern, "/**")
		suffix = "(/.*)?$"
	}
	var b strings.Builder
	b.WriteByte('^')
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				// "**" always crosses directory boundaries, regardless
				// of allowSlashInStar: it is the multi-level wildcard
				// the spec calls out explicitly for ml_wildcard, and a
				// harmless superset for base-path expansion.
				b.WriteString(".*")
				i++
			} else if allowSlashInStar {
				b.WriteString(".*")
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		}
	}
	b.WriteString(suffix)
	return b.String()
}

// HasMeta reports whether pattern contains glob metacharacters.
func HasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?")
}
