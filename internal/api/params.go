package api

import (
	"fmt"
	"net/url"

	"github.com/oapi-codegen/runtime"
)

// QueryInt はクエリパラメータ name を int として読み取ります。
// 未指定の場合は def を返し、0以下の値も def に置き換えます。
func QueryInt(query url.Values, name string, def int) (int, error) {
	var v *int
	if err := runtime.BindQueryParameter("form", true, false, name, query, &v); err != nil {
		return def, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v == nil || *v <= 0 {
		return def, nil
	}
	return *v, nil
}

// QueryString はクエリパラメータ name を文字列として読み取ります。
func QueryString(query url.Values, name string) (string, error) {
	var v *string
	if err := runtime.BindQueryParameter("form", true, false, name, query, &v); err != nil {
		return "", fmt.Errorf("invalid %s: %w", name, err)
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

// Page は page/limit のペアを読み取り、offset を計算します。
func Page(query url.Values, defaultLimit, maxLimit int) (page, limit, offset int, err error) {
	page, err = QueryInt(query, "page", 1)
	if err != nil {
		return 0, 0, 0, err
	}
	limit, err = QueryInt(query, "limit", defaultLimit)
	if err != nil {
		return 0, 0, 0, err
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return page, limit, (page - 1) * limit, nil
}
