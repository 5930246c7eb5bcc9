package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/newsrelay/internal/config"
	"github.com/newsrelay/internal/db"
	"github.com/newsrelay/internal/logging"
)

// 站点目录初始化：按 YAML 写入站点、分类、映射、提示词与账号。
func main() {
	path := flag.String("file", "scripts/seed/catalog.example.yaml", "目录 YAML 文件")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("配置加载失败")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: "console"})

	// 初始化数据库
	if err := db.Init(cfg.Database.Driver, cfg.Database.DSN); err != nil {
		logging.Fatal().Err(err).Msg("数据库初始化失败")
	}

	fixture, err := LoadFixture(*path)
	if err != nil {
		logging.Fatal().Err(err).Msg("读取目录失败")
	}

	fmt.Println("开始写入站点目录...")
	summary, err := Apply(context.Background(), db.DB, fixture)
	if err != nil {
		logging.Fatal().Err(err).Str("written", summary.String()).Msg("写入目录失败")
	}
	fmt.Println("站点目录写入完成:", summary)
}
