package cache

import (
	"testing"

	"github.com/trendhive/content-cache/types"
)

func TestInferCategoryDeterministic(t *testing.T) {
	manager, _, _ := newTestManager(t, nil, nil)

	notes := []types.Note{{Title: "夏日穿搭分享", Desc: "裙子搭配"}}
	first := manager.InferCategory(notes)
	for i := 0; i < 10; i++ {
		if got := manager.InferCategory(notes); got != first {
			t.Fatalf("Inference not deterministic: %s vs %s", got, first)
		}
	}
	if first != "穿搭" {
		t.Fatalf("Expected 穿搭, got %s", first)
	}
}

func TestInferCategoryTableOrderBreaksTies(t *testing.T) {
	manager, _, _ := newTestManager(t, nil, nil)

	// Text matching both 美妆 and 美食; 美妆 is earlier in the table.
	notes := []types.Note{{Title: "口红测评", Desc: "顺便聊聊好吃的甜品"}}
	if got := manager.InferCategory(notes); got != "美妆" {
		t.Fatalf("Expected first table match to win, got %s", got)
	}
}

func TestInferCategoryUnmatched(t *testing.T) {
	manager, _, _ := newTestManager(t, nil, nil)

	if got := manager.InferCategory([]types.Note{{Title: "abcdef"}}); got != CategoryOther {
		t.Fatalf("Expected %s for unmatched text, got %s", CategoryOther, got)
	}
	if got := manager.InferCategory(nil); got != CategoryOther {
		t.Fatalf("Expected %s for empty notes, got %s", CategoryOther, got)
	}
}

func TestInferCategoryUsesPrefixOnly(t *testing.T) {
	manager, _, _ := newTestManager(t, nil, nil)

	// The matching note is beyond the 5-note sample prefix.
	notes := make([]types.Note, 0, 6)
	for i := 0; i < 5; i++ {
		notes = append(notes, types.Note{Title: "nothing"})
	}
	notes = append(notes, types.Note{Title: "健身打卡"})

	if got := manager.InferCategory(notes); got != CategoryOther {
		t.Fatalf("Expected sample prefix only, got %s", got)
	}
}

func TestInferCategoryFromKeyword(t *testing.T) {
	manager, _, _ := newTestManager(t, nil, nil)

	cases := map[string]string{
		"护肤精华推荐": "美妆",
		"火锅餐厅":   "美食",
		"猫咪日常":   "宠物",
		"随便什么":   CategoryOther,
	}
	for keyword, want := range cases {
		if got := manager.InferCategoryFromKeyword(keyword); got != want {
			t.Fatalf("Keyword %q: expected %s, got %s", keyword, want, got)
		}
	}
}

func TestCategoriesClosedSet(t *testing.T) {
	names := Categories()
	if len(names) != 8 {
		t.Fatalf("Expected 8 categories, got %d", len(names))
	}
	for _, name := range names {
		if name == CategoryOther {
			t.Fatal("CategoryOther is a default, not a table entry")
		}
	}
}
