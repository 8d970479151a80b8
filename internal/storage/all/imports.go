// Package all wires every built-in storage backend into the storage
// registry. Import it for side effects:
//
//	import _ "simdasi/internal/storage/all"
//
// after which storage.New accepts "postgres", "mssql", "mysql" and "sqlite".
package all

import (
	_ "simdasi/internal/storage/mssql"
	_ "simdasi/internal/storage/mysql"
	_ "simdasi/internal/storage/postgres"
	_ "simdasi/internal/storage/sqlite"
)
