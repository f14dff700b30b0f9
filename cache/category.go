package cache

import "strings"

// CategoryOther is the default category for unmatched content.
const CategoryOther = "其他"

// categoryKeywords maps each category to its trigger keywords. The
// table is ordered and the first category with an intersecting keyword
// wins, so inference is deterministic for any input.
var categoryKeywords = []struct {
	Category string
	Keywords []string
}{
	{"美妆", []string{"美妆", "化妆", "护肤", "口红", "粉底", "精华", "面膜"}},
	{"穿搭", []string{"穿搭", "服装", "搭配", "时尚", "衣服", "裤子", "裙子"}},
	{"美食", []string{"美食", "食谱", "做饭", "餐厅", "好吃", "零食", "甜品"}},
	{"旅游", []string{"旅游", "旅行", "景点", "酒店", "攻略", "打卡"}},
	{"健身", []string{"健身", "运动", "减肥", "瑜伽", "跑步", "锻炼"}},
	{"数码", []string{"数码", "手机", "电脑", "相机", "耳机", "科技"}},
	{"家居", []string{"家居", "装修", "家具", "收纳", "清洁", "家电"}},
	{"宠物", []string{"宠物", "萌宠", "猫咪", "狗狗", "猫粮", "狗粮"}},
}

// Categories returns the closed set of known categories, in table order.
func Categories() []string {
	names := make([]string, 0, len(categoryKeywords))
	for _, row := range categoryKeywords {
		names = append(names, row.Category)
	}
	return names
}

// inferFromText returns the first category whose keyword set intersects
// the text, or CategoryOther.
func inferFromText(text string) string {
	for _, row := range categoryKeywords {
		for _, keyword := range row.Keywords {
			if strings.Contains(text, keyword) {
				return row.Category
			}
		}
	}
	return CategoryOther
}
