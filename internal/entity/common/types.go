package common

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// StringArray 以 JSON 格式存储字符串切片。
type StringArray []string

// Value 写库时序列化为 JSON，空数组写 "[]" 而不是 NULL
func (a StringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal([]string(a))
	return string(raw), err
}

// Scan 兼容驱动返回的 []byte 与 string 两种形式
func (a *StringArray) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("StringArray: cannot scan %T", value)
	}
	if len(raw) == 0 {
		*a = StringArray{}
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(a))
}

func (a StringArray) ToSlice() []string {
	return append([]string{}, a...)
}

func (a StringArray) Contains(s string) bool {
	return slices.Contains(a, s)
}

// WithItem 集合语义追加，总是返回新切片
func (a StringArray) WithItem(s string) StringArray {
	out := StringArray(a.ToSlice())
	if s == "" || out.Contains(s) {
		return out
	}
	return append(out, s)
}

func (a StringArray) WithoutItem(s string) StringArray {
	return slices.DeleteFunc(StringArray(a.ToSlice()), func(v string) bool { return v == s })
}

// NormalizeTag 标签统一去空格并转小写。
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// Meta 包含分页元数据。
type Meta struct {
	Page     int64 `json:"page"`
	PageSize int64 `json:"page_size"`
	Total    int64 `json:"total"`
}

// BaseParams 包含通用的分页和排序参数。
type BaseParams struct {
	PageSize int64  `json:"page_size" form:"page_size" query:"page_size"`
	Page     int64  `json:"page" form:"page" query:"page"`
	SortBy   string `json:"sort_by" form:"sort_by" query:"sort_by"`
	SortDesc bool   `json:"sort_desc" form:"sort_desc" query:"sort_desc"`
}
