//
// Copyright (C) 2022 IBM Corporation.
//
// Authors:
// Frederico Araujo <frederico.araujo@ibm.com>
// Teryl Taylor <terylt@ibm.com>
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

// Package testutil provides testing helpers; no package test in this
// module imports it at present. Adapted from
// https://github.com/google/mtail/tree/main/internal and from this
// module's former driver/log/testutil.
package testutil

import (
	"io"
	"os"
	"testing"

	"github.com/alibaba/ilogtail-sub016/pkg/logging"
)

// WriteString writes str to f and, if f is a regular file, fsyncs it
// so the write happens-before the call returns (a test reading the
// file back right after must not race the kernel's writeback).
func WriteString(tb testing.TB, f io.StringWriter, str string) int {
	tb.Helper()
	n, err := f.WriteString(str)
	FatalIfErr(tb, err)
	logging.Trace.Debugw("wrote test bytes", "n", n)
	if v, ok := f.(*os.File); ok {
		fi, err := v.Stat()
		FatalIfErr(tb, err)
		if fi.Mode().IsRegular() {
			FatalIfErr(tb, v.Sync())
		}
	}
	return n
}
