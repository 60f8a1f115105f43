// 版权所有 2024 VoxelForge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接打开与连接池管理，支持健康检查
与事务重试，供作业清单的数据库后端使用。

# 核心类型

  - Config：驱动（sqlite / postgres / mysql）与 DSN。
  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：最大空闲连接数、最大打开连接数、连接最大生命周期
    与健康检查间隔。

# 主要能力

  - Open：按驱动选择 Dialector，sqlite 使用纯 Go 的 glebarez 驱动，
    文件数据库默认开启 WAL、busy_timeout 与外键约束（见 SQLiteDSN）。
  - 健康检查：后台定时 PingContext 探活。
  - 事务管理：WithTransaction 单次执行，WithTransactionRetry
    对死锁、序列化失败、SQLite 锁冲突等瞬时错误经 internal/retry 指数退避重试。
*/
package database
