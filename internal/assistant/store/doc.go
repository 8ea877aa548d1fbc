// Package store 提供问答服务的数据存储层。
//
// 包含只读的向量索引（内存快照或 Milvus）、BM25 关键词索引，
// 以及广播订阅者的持久化存储。索引在进程生命周期内不会被修改，
// 因此可以并发读取。
package store
