// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 agentrelay 编排服务的 HTTP 请求处理器。

# 概述

handlers 包是一层很薄的路由适配：解析请求、调用 Supervisor / Router /
Registry，并以统一信封格式写回结果。所有 Handler 都是标准
http.HandlerFunc，路径参数通过 Go 1.22 ServeMux 的 PathValue 读取。

# 核心类型

  - AgentHandler: agent 注册、训练、启动、停止与运行时探活
  - ChatHandler: 单轮对话，必要时由 handoff.Router 完成转接
  - HealthHandler: /health、/healthz、/ready、/version
  - Response: 统一 JSON 信封（success + data + error + timestamp + request_id）
  - ErrorInfo: 结构化错误（code、message、agent、retryable）
  - ResponseWriter: 包装 http.ResponseWriter 以捕获状态码，供中间件使用
  - PingCheck: 基于 Ping 的就绪检查，registry.Store 可直接注册

# 错误映射

Handler 只认 types.Error：显式 HTTPStatus 优先，否则按 ErrorCode 映射
（NOT_FOUND→404、ALREADY_EXISTS→400、PORT_CONFLICT→409、
UPSTREAM_ERROR→502、UPSTREAM_TIMEOUT→504）。其余 error 一律 500，
且不向客户端泄露原始错误文本。
*/
package handlers
