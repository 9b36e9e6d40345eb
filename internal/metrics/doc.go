// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的编排器指标采集能力，覆盖
HTTP、agent 生命周期、对话轮次、运行时调用与注册表五大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
由 cmd/agentrelay 在独立的 metrics 端口上通过 promhttp 暴露。

# 核心类型

  - Collector：指标收集器，同时充当 runtime、supervisor、handoff
    与 registry 各包定义的 Observer。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - 生命周期指标：create/train/start/stop 操作计数，训练结果与耗时。
  - 对话指标：按结果（direct、transferred、unknown_target 等）分组的
    轮次计数与耗时。
  - 运行时指标：respond/tracker/health 调用计数与延迟。
  - 注册表指标：get/create/update/list 操作计数与延迟。
*/
package metrics
