package domain

import "time"

// LeaseStatus はリースのステータスを表す。
type LeaseStatus string

const (
	// LeaseStatusActive は有効なリースを表す。ミントIDごとに同時に1件まで。
	LeaseStatusActive LeaseStatus = "active"
	// LeaseStatusReleased は解放されたリースを表す。
	LeaseStatusReleased LeaseStatus = "released"
	// LeaseStatusConsumed はトランザクション確定により消費されたリースを表す。
	LeaseStatusConsumed LeaseStatus = "consumed"
	// LeaseStatusExpired はTTL超過により回収されたリースを表す。
	LeaseStatusExpired LeaseStatus = "expired"
)

// MintLease は1つのミントIDと1つの作成試行を結び付ける時限付きの占有を表す。
type MintLease struct {
	ID          string
	MintAddress string
	Requester   string
	Status      LeaseStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
	UpdatedAt   time.Time
}

// Expired はリースが指定時刻の時点で期限切れかどうかを返す。
func (l *MintLease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
