// Package debug provides lightweight invariant assertions; a failed
// assertion logs and panics in every build.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"

	"github.com/golang/glog"
)

func _panic(a ...interface{}) {
	msg := "DEBUG PANIC: " + fmt.Sprint(a...)
	glog.Errorf("%s", msg)
	glog.Flush()
	panic(msg)
}

func Assert(cond bool, a ...interface{}) {
	if !cond {
		_panic(a...)
	}
}

func Assertf(cond bool, f string, a ...interface{}) {
	if !cond {
		_panic(fmt.Sprintf(f, a...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		_panic(err)
	}
}
