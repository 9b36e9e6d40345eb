// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 agentrelay 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 registry、supervisor、
handoff 与 api 等上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - AgentRecord: 注册表中的 agent 记录（路径、端口、PID、状态）
  - AgentStatus: 生命周期状态，支持 "train_error: <detail>" 形式
  - Error / ErrorCode: 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - 名称与端口校验：ValidateAgentName / ValidatePort
  - Context 传播：WithRequestID / WithConversationID / WithAgentName / WithPrincipal
  - 错误工具链：AsError / GetErrorCode / IsCode / IsRetryable
*/
package types
