// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 agentrelay 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout，自动注册 Cleanup
  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel，
    用于等待后台训练、进程回收等异步状态
  - 数据工具: MustJSON
  - 端口与注册表: FreePort 分配空闲端口，SeedAgent 直接写入一条
    running 状态的 agent 记录

# 子包

  - testutil/mocks: MockRuntime，基于 httptest 的 agent 对话服务替身，
    支持固定回复、转接槽位、错误注入与调用记录

# 使用示例

	rt := mocks.NewMockRuntime(t, "billing").WithTransferTo("refunds")
	testutil.SeedAgent(t, store, "billing", rt.Port(), testutil.FreePort(t))
*/
package testutil
