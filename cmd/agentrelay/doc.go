// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 agentrelay 编排服务的可执行入口。

# 概述

cmd/agentrelay 装配注册表、进程监管（supervisor）、运行时客户端与会话转接
路由（handoff），对外暴露 agent 管理与对话 HTTP API。配置按
默认值 → YAML → AGENTRELAY_* 环境变量 的顺序加载。

# 核心类型

  - Server: 主服务器，管理 API、Metrics 双端口及优雅关闭
  - Middleware: HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    OTelTracing、Metrics、CORS、RateLimiter（基于 IP）、
    APIKeyAuth（X-API-Key / query 参数）、JWTAuth（HS256 Bearer）
  - 启动时 Reconcile：清除已退出进程遗留的 PID
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号 → 关闭 API → 可选 StopAll → 等待训练 → 关闭 Metrics → 关闭注册表
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
