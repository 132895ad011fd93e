package server

// Route path constants
const (
	RouteStatus    = "/"
	RouteAuthStart = "/auth/start"
	RouteCallback  = "/callback"
	RouteLogout    = "/logout"
)
