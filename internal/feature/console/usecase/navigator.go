package usecase

import (
	"errors"
	"path"
	"strings"

	"ai_memory/internal/feature/console/domain/entity"
)

var (
	// ErrRouteNotFound はルート表に存在しないパスの場合に返されます。
	ErrRouteNotFound = errors.New("route not found")
	// ErrRedirectLoop はリダイレクトが上限回数を超えた場合に返されます。
	ErrRedirectLoop = errors.New("too many redirects")
)

const maxRedirects = 5

// node はルート表を絶対パスで平坦化したものです。
type node struct {
	route        entity.Route
	fullPath     string
	parentPath   string
	requiresAuth bool
}

// Navigator はルート表に対してナビゲーションを解決します。
type Navigator struct {
	routes []entity.Route
	nodes  map[string]node
}

// NewNavigator はルート表からNavigatorを生成します。
func NewNavigator(routes []entity.Route) *Navigator {
	n := &Navigator{routes: routes, nodes: make(map[string]node)}
	n.flatten(routes, "", false)
	return n
}

// flatten は子ルートを親パスに連結して登録します。
// 空パスの子は親と同じパスになり、親の定義を上書きします。
func (n *Navigator) flatten(routes []entity.Route, parent string, inheritedAuth bool) {
	for _, r := range routes {
		full := r.Path
		if !strings.HasPrefix(full, "/") {
			full = path.Join(parent, r.Path)
		}
		full = Normalize(full)
		auth := inheritedAuth || r.RequiresAuth
		n.nodes[full] = node{route: r, fullPath: full, parentPath: parent, requiresAuth: auth}
		if len(r.Children) > 0 {
			n.flatten(r.Children, full, auth)
		}
	}
}

// Routes はルート表を返します。
func (n *Navigator) Routes() []entity.Route {
	return n.routes
}

// Normalize は小文字化して末尾のスラッシュを取り除きます（"/" は除く）。空文字は "/" になります。
// ルート表の照合は大文字小文字を区別しません。
func Normalize(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}

// Resolve は静的リダイレクトを辿り、認証ガードを適用した遷移先を返します。
// 認証が必要なルートに未認証で遷移した場合はログインパスに解決されます。
func (n *Navigator) Resolve(requested string, authenticated bool) (*entity.Resolution, error) {
	res := &entity.Resolution{RequestedPath: requested}
	current := Normalize(requested)

	var target node
	for hops := 0; ; hops++ {
		nd, ok := n.nodes[current]
		if !ok {
			return nil, ErrRouteNotFound
		}
		if nd.route.Redirect == "" {
			target = nd
			break
		}
		if hops >= maxRedirects {
			return nil, ErrRedirectLoop
		}
		current = n.redirectTarget(nd)
		res.Redirected = true
	}

	if target.requiresAuth && !authenticated {
		login, ok := n.nodes[entity.LoginPath]
		if !ok {
			return nil, ErrRouteNotFound
		}
		target = login
		res.GuardApplied = true
	}

	res.Path = target.fullPath
	res.View = target.route.View
	res.Title = target.route.Title
	return res, nil
}

// redirectTarget は相対リダイレクトを親パス基準で解決します。
func (n *Navigator) redirectTarget(nd node) string {
	to := nd.route.Redirect
	if strings.HasPrefix(to, "/") {
		return Normalize(to)
	}
	base := nd.parentPath
	if base == "" {
		base = "/"
	}
	return Normalize(path.Join(base, to))
}
