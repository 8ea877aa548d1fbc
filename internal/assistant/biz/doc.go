// Package biz 实现问答流水线的业务逻辑。
//
// 流程：限流 -> 嵌入 -> 向量检索（+ 关键词检索）-> 上下文组装 -> 生成 -> 清洗。
// 所有可变状态（缓存、限流窗口、串行化锁）都归 Pipeline 及其组件所有。
package biz
