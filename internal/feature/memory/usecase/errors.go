package usecase

import "errors"

var (
	// ErrRecordNotFound はLTMにもSTMにも記録が存在しない場合に返されます。
	ErrRecordNotFound = errors.New("record not found")
	// ErrStagingNotFound はStagingエントリが存在しないか保留中でない場合に返されます。
	ErrStagingNotFound = errors.New("staging entry not found")
	// ErrInvalidInput は必須パラメーターが欠けている場合に返されます。
	ErrInvalidInput = errors.New("invalid input")
	// ErrSnapshotDisabled はスナップショットのアップロード先が設定されていない場合に返されます。
	ErrSnapshotDisabled = errors.New("snapshot upload is not configured")
)
