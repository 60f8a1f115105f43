/*
Package artifact 将每个 LOD 的装配结果导出为内容寻址、幂等的 JSON 文件。

文件名由 (plan, voxel set) 规范序列化的 SHA-256 派生，写入采用同目录
临时文件 + rename 的原子方式；若目标文件已存在则直接返回描述符，不重写。
*/
package artifact
