package ask

import (
	"fmt"
	"strings"
)

// BuildAskPrompt はレシピ開発アシスタント用のプロンプトを構築する
// 資料片段は検索スコア順に [1] から番号を振る
func BuildAskPrompt(query string, contexts []string) string {
	var sb strings.Builder

	sb.WriteString("あなたはプロのレシピ開発アシスタントです。与えられた資料に基づいて回答してください。\n")
	sb.WriteString("要件:\n")
	sb.WriteString("1) 実行可能な手順を示すこと\n")
	sb.WriteString("2) 代替食材の提案を示すこと\n")
	sb.WriteString("3) 失敗しやすいポイントとその回避方法を示すこと\n")
	sb.WriteString("4) 資料が不足している場合はその旨を明記し、控えめな提案にとどめること\n\n")

	sb.WriteString("ユーザーの要望: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	sb.WriteString("資料:\n")
	for i, c := range contexts {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(fmt.Sprintf("[%d] %s", i+1, c))
	}

	return sb.String()
}
