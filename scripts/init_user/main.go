package main

import (
	"flag"
	"fmt"

	"github.com/newsrelay/internal/config"
	"github.com/newsrelay/internal/db"
	"github.com/newsrelay/internal/logging"
)

// 创建（或确认存在）一个可登录的编辑账号，默认取 super_root 配置。
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("配置加载失败")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: "console"})

	username := flag.String("username", cfg.SuperRoot.UserName, "用户名")
	password := flag.String("password", cfg.SuperRoot.Password, "密码")
	flag.Parse()

	// 初始化数据库
	if err := db.Init(cfg.Database.Driver, cfg.Database.DSN); err != nil {
		logging.Fatal().Err(err).Msg("数据库初始化失败")
	}

	user, err := db.EnsureUser(db.DB, *username, *password)
	if err != nil {
		logging.Fatal().Err(err).Msg("创建用户失败")
	}
	if user == nil {
		logging.Fatal().Msg("用户名和密码不能为空")
	}

	fmt.Printf("用户已就绪: %s (id=%d)\n", user.Username, user.ID)
}
