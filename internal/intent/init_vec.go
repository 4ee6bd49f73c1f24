package intent

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register sqlite-vec as an auto-loadable extension with the
	// mattn/go-sqlite3 driver before any corpus database is opened.
	vec.Auto()
}
