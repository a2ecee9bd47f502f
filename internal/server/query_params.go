package server

// pageQuery binds the limit/offset window shared by the list endpoints.
// Out of range values are clamped by the services.
type pageQuery struct {
	Limit  int64 `form:"limit"`
	Offset int64 `form:"offset"`
}

type listQuery struct {
	pageQuery
	Name string `form:"name"`
}
