// Package config 提供 agentrelay 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → AGENTRELAY_* 环境变量 的顺序叠加，
// 覆盖服务器、注册表后端、进程监管、运行时客户端与转接策略。
package config
