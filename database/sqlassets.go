package sqlassets

import _ "embed"

//go:embed schema/sync_core.sql
var SyncCoreSQL string
