// Package tassert provides the small assertion helpers
// (tassert.Errorf(t, cond, fmt, args...)) that most non-Ginkgo tests use.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package tassert

import "testing"

// Errorf reports a test failure via t.Errorf when cond is false, continuing
// execution of the test (unlike Fatalf).
func Errorf(t *testing.T, cond bool, f string, a ...interface{}) {
	t.Helper()
	if !cond {
		t.Errorf(f, a...)
	}
}

// Fatalf reports a test failure via t.Fatalf when cond is false, aborting
// the test immediately.
func Fatalf(t *testing.T, cond bool, f string, a ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(f, a...)
	}
}

// CheckFatal calls t.Fatal if err is non-nil.
func CheckFatal(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// CheckError calls t.Error if err is non-nil, continuing execution.
func CheckError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Error(err)
	}
}
