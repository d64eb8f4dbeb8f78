package model

import "strings"

// 文档注释：区域编码归一化（左侧补零到参考宽度）
// 背景：数据集常把邮编存为数字，导致前导零丢失（如 02108 → 2108）；连接键与前缀匹配都需统一宽度。
// 约束：仅对纯数字编码补零；非数字编码只去除首尾空白；超过宽度的编码保持原样。
func NormalizeAreaID(id string, width int) string {
	id = strings.TrimSpace(id)
	if id == "" || width <= 0 || len(id) >= width {
		return id
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return id
		}
	}
	return strings.Repeat("0", width-len(id)) + id
}
