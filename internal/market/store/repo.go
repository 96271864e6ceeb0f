package store

import (
	"gorm.io/gorm"
)

// Repo 行情持久化仓库 (K线 + 热力图聚合缓存)
type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// AutoMigrate 建表 (启动时调用一次)
func (r *Repo) AutoMigrate() error {
	return r.db.AutoMigrate(
		&CandleRow{},
		&AggregatedTradeRow{},
	)
}
