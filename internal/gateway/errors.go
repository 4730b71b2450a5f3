package gateway

import "errors"

var (
	ErrMissingDependency = errors.New("missing gateway dependency")
	ErrDispatch          = errors.New("dispatch failed")
)
