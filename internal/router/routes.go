package router

// Redirect destinations the guard may issue.
const (
	LoginPath = "/login"
	HomePath  = "/home"

	LoginRoute = "login"
	HomeRoute  = "home"
)

type RouteMeta struct {
	RequiresAuth  bool
	RequiresAdmin bool
}

// Route is one entry of the route table. A route with Redirect set is a
// static alias and never reaches the guard.
type Route struct {
	Path      string
	Name      string
	Component string
	Redirect  string
	Meta      RouteMeta
}

// DefaultRoutes is the dashboard's route table.
func DefaultRoutes() []Route {
	return []Route{
		{Path: "/", Redirect: LoginPath},
		{Path: LoginPath, Name: LoginRoute, Component: "LoginView"},
		{Path: HomePath, Name: HomeRoute, Component: "HomeView", Meta: RouteMeta{RequiresAuth: true}},
		{Path: "/servers", Name: "servers", Component: "ServerManagement", Meta: RouteMeta{RequiresAuth: true}},
		{Path: "/monitor", Name: "monitor", Component: "MonitorData", Meta: RouteMeta{RequiresAuth: true}},
		{Path: "/users", Name: "users", Component: "UserManagement", Meta: RouteMeta{RequiresAuth: true, RequiresAdmin: true}},
	}
}
