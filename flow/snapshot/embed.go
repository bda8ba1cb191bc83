package snapshot

import "embed"

// migrationFiles embeds the snapshot sink's own schema migrations, mirroring
// the teacher's db/migrations embed.FS convention.
//
//go:embed migrations/*.sql
var migrationFiles embed.FS
