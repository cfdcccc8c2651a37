package usecase

import "errors"

var (
	// ErrRuleNotFound は指定IDのルールが存在しない場合に返されます。
	ErrRuleNotFound = errors.New("alert rule not found")
	// ErrAlertNotFound は指定IDのアラートが存在しない場合に返されます。
	ErrAlertNotFound = errors.New("alert not found")
	// ErrInvalidConfig はルール設定JSONが不正な場合に返されます。
	ErrInvalidConfig = errors.New("invalid rule config")
	ErrInvalidInput  = errors.New("invalid input")
)
