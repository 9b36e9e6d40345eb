// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 handoff 实现单轮对话路由与 agent 之间的会话转接。

# 概述

一次对话轮次（turn）先发送到用户指定的 agent，随后读取该会话的 tracker。
若会话的 transfer_to 槽位指向另一个已注册的 agent，路由器会把原始文本以
相同的会话 ID 转发给目标 agent，并同时返回两边的回复。

# 核心类型

  - Router：无状态路由器，依赖注册表与运行时客户端
  - TurnResult：一轮对话的结果，区分直接回复与转接回复
  - ForwardPolicy：转发失败时的处理策略（propagate / degrade）

# 行为约定

  - 未知 agent 直接返回 NOT_FOUND，不发起任何网络调用
  - tracker 读取失败时降级为普通回复
  - 转接目标不存在时在结果中返回软错误，而不是失败
  - 路由器从不清空转接槽位，不缓存，不重试
*/
package handoff
