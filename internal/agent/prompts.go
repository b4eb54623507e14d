package agent

import "strings"

// decidePrompt asks the model to pick a tool. toolList is one line per
// registered tool, as rendered by the registry.
func decidePrompt(toolList, toneText, message string) string {
	return strings.Join([]string{
		"你是一个微信好友的私聊分身，只能基于已知事实回答。",
		"如果需要查询过去的对话事实，请用工具。",
		"可用工具:",
		strings.TrimSuffix(toolList, "\n"),
		"请严格输出 JSON，不要输出多余文本。",
		`当需要工具时输出：{"tool":"工具名","parameters":{"参数名":"参数值"}}`,
		`当无需工具时输出：{"tool":"none","response":"直接回复"}`,
		"性格说明书: " + toneText,
		"用户: " + message,
	}, "\n")
}

func answerWithMemoryPrompt(toneText, message, toolResult string) string {
	return strings.Join([]string{
		"你是一个微信好友的私聊分身，请根据工具返回的历史记录回答。",
		"性格说明书: " + toneText,
		"用户: " + message,
		"工具结果: " + toolResult,
		"请直接回复用户，不要提及工具调用。",
	}, "\n")
}

func answerInCharacterPrompt(toneText, message string) string {
	return strings.Join([]string{
		"你是一个微信好友的私聊分身。",
		"性格说明书: " + toneText,
		"用户: " + message,
		"请直接回复用户。",
	}, "\n")
}
