// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package learner

import (
	"regexp"
	"strings"
)

const previewMaxRunes = 200

var sqlFence = regexp.MustCompile("(?is)```sql.*?```")

// AnswerPreview reduces an assistant answer to a short plain-text
// preview: SQL code fences stripped, whitespace collapsed, capped at
// 200 runes.
func AnswerPreview(answer string) string {
	preview := sqlFence.ReplaceAllString(answer, "")
	preview = strings.Join(strings.Fields(preview), " ")
	runes := []rune(preview)
	if len(runes) > previewMaxRunes {
		preview = string(runes[:previewMaxRunes]) + "..."
	}
	return preview
}

// questionTags maps question wording onto analysis tags.
var questionTags = []struct {
	tag      string
	keywords []string
}{
	{"访问分析", []string{"访问", "pv", "uv"}},
	{"销售分析", []string{"销售", "订单", "收入"}},
	{"趋势分析", []string{"趋势", "变化", "走势"}},
	{"分布分析", []string{"分布", "占比", "比例"}},
	{"排名分析", []string{"排名", "top", "最高", "最低"}},
}

// sqlShapeTags maps SQL constructs onto query-shape tags.
var sqlShapeTags = []struct {
	tag      string
	keywords []string
}{
	{"计数查询", []string{"COUNT"}},
	{"聚合查询", []string{"SUM", "AVG"}},
	{"分组查询", []string{"GROUP BY"}},
	{"关联查询", []string{"JOIN"}},
}

// ExtractTags derives analysis tags from the question wording plus the
// SQL shape.
func ExtractTags(question, sqlText string) []string {
	var tags []string
	q := strings.ToLower(question)
	for _, t := range questionTags {
		for _, kw := range t.keywords {
			if strings.Contains(q, kw) {
				tags = append(tags, t.tag)
				break
			}
		}
	}
	s := strings.ToUpper(sqlText)
	for _, t := range sqlShapeTags {
		for _, kw := range t.keywords {
			if strings.Contains(s, kw) {
				tags = append(tags, t.tag)
				break
			}
		}
	}
	return tags
}

const categoryGeneral = "通用查询"

// categories, first match wins.
var categories = []struct {
	name     string
	keywords []string
}{
	{"访问分析", []string{"访问", "pv", "uv", "dau", "mau"}},
	{"销售分析", []string{"销售", "订单", "收入", "营收"}},
	{"用户分析", []string{"用户", "客户", "会员"}},
	{"产品分析", []string{"产品", "商品", "货品"}},
	{"渠道分析", []string{"渠道", "来源"}},
	{"区域分析", []string{"区域", "城市", "省份", "地区"}},
}

// Categorize buckets a question into one analysis category; questions
// matching nothing fall into the generic bucket.
func Categorize(question string) string {
	q := strings.ToLower(question)
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(q, kw) {
				return c.name
			}
		}
	}
	return categoryGeneral
}
