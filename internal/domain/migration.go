package domain

import "time"

// MigrationStatus はスキーママイグレーションの適用状態。
type MigrationStatus string

const (
	MigrationStatusPending MigrationStatus = "pending"
	MigrationStatusApplied MigrationStatus = "applied"
)

// Migration はSQLマイグレーションファイル1件とその適用状態を表す。
// Versionはファイル名の先頭部分（"001"など）で、適用順を決める。
type Migration struct {
	Version   string
	Name      string
	FilePath  string
	Status    MigrationStatus
	AppliedAt *time.Time
}

// Applied は適用済みかどうかを返す。
func (m *Migration) Applied() bool {
	return m.Status == MigrationStatusApplied
}
