package http

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPClient は外部への通知や呼び出しに使うHTTPクライアントを作成します。
//
// http.DefaultClient はタイムアウトを持たないため使わないこと。
// timeout はリクエスト全体の上限で、接続とTLSハンドシェイクにはより短い上限を設けます。
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialTimeout := min(timeout, 5*time.Second)
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: dialTimeout,
	}
	return &http.Client{Timeout: timeout, Transport: t}
}
