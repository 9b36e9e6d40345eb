// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接与连接池管理，供 SQL 注册表后端使用。

# 概述

Open 根据 config.DatabaseConfig 选择 SQLite（glebarez/sqlite，纯 Go）
或 PostgreSQL 方言，并交由 PoolManager 统一管理连接生命周期。

# 核心类型

  - PoolManager：持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Dialect()、Ping()、Close() 等生命周期方法。
  - PoolConfig：最大空闲连接数、最大打开连接数与连接最大生命周期。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 方言选择：sqlite / postgres，SQLite 固定单连接。
  - 事务管理：WithTransaction 提供单次事务执行，
    WithTransactionRetry 在死锁、序列化失败或 SQLITE_BUSY 时指数退避重试。
*/
package database
