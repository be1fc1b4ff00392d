// Package dbtest 提供基于内存 sqlite 的测试数据库
package dbtest

import (
	"testing"

	"github.com/google/uuid"

	"market-pay/conf"
	"market-pay/db"
)

// New 创建独立的内存数据库并完成建表
func New(t testing.TB) *db.Store {
	t.Helper()

	gdb, err := db.Open(conf.DatabaseConfig{
		Driver: "sqlite",
		DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db.NewStore(gdb)
}
