// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 agentrelay 提供集中式的 TracerProvider 和 MeterProvider 配置。
// 当遥测功能禁用时，使用 noop 实现，只安装 W3C 传播器。
package telemetry
