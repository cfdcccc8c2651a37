// Package entity はコンソールのルート定義を表します。
package entity

// Route はコンソールの1ルートです。子ルートのパスは親からの相対パスです。
type Route struct {
	Name         string  `json:"name,omitempty"`
	Path         string  `json:"path"`
	View         string  `json:"view,omitempty"`
	Redirect     string  `json:"redirect,omitempty"`
	RequiresAuth bool    `json:"requires_auth,omitempty"`
	Title        string  `json:"title,omitempty"`
	Lazy         bool    `json:"lazy,omitempty"`
	Children     []Route `json:"children,omitempty"`
}

// Resolution はナビゲーションの解決結果です。
type Resolution struct {
	RequestedPath string `json:"requested_path"`
	Path          string `json:"path"`
	View          string `json:"view"`
	Title         string `json:"title,omitempty"`
	Redirected    bool   `json:"redirected"`
	GuardApplied  bool   `json:"guard_applied"`
}

const (
	// LoginPath はガードが未認証時に誘導するパスです。
	LoginPath = "/login"
	// AdminPath は管理画面レイアウトのパスです。
	AdminPath = "/admin"
)

// RouteTable はコンソールの唯一のルート定義を返します。
func RouteTable() []Route {
	return []Route{
		{Name: "login", Path: LoginPath, View: "LoginView", Title: "AI Memory Admin Login"},
		{
			Path:         AdminPath,
			View:         "AdminLayout",
			RequiresAuth: true,
			Children: []Route{
				{Path: "", Redirect: "memory"},
				{Name: "memory", Path: "memory", View: "MemoryExplorer"},
				{Name: "staging", Path: "staging", View: "StagingReview"},
				{Name: "monitoring", Path: "monitoring", View: "MonitoringDashboard"},
				{Name: "alerts", Path: "alerts", View: "AlertCenter", Title: "Alert Center", Lazy: true},
				{Name: "control", Path: "control", View: "AdminControl"},
				{Name: "users", Path: "users", View: "Users"},
				{Name: "status", Path: "status", View: "Status"},
			},
		},
		{Path: "/", Redirect: LoginPath},
		{Path: "/dashboard", Redirect: AdminPath},
	}
}
