package site

import (
	"fmt"
	"sort"
)

// DefaultTransientPhrases are status placeholders common to the supported sites.
var DefaultTransientPhrases = []string{
	"图片解析中", "理解问题", "思考中", "分析中", "搜索中", "生成中",
	"thinking", "parsing image", "searching", "analyzing", "generating",
}

var builtins = map[string]*Profile{
	"baidu": {
		Name: "baidu",
		URL:  "https://chat.baidu.com/",
		Selectors: SelectorTable{
			RoleInput: {
				`[class*="chat-input"] textarea`,
				`textarea[class*="input"]`,
				`div[contenteditable="true"]`,
				`[class*="ChatInput"] textarea`,
				`textarea`,
			},
			RoleSend: {
				`[class*="submit"]`,
				`button[class*="send"]`,
				`button[class*="Send"]`,
				`[class*="send-btn"]`,
				`[class*="sendBtn"]`,
			},
			RoleAssistantMessage: {
				`[class*="markdown"]`,
				`[class*="Markdown"]`,
				`[class*="assistant"]`,
				`[class*="bot-message"]`,
				`[class*="answer"]`,
				`[data-role="assistant"]`,
			},
			RoleStop: {
				`button[class*="stop"]`,
				`button[class*="Stop"]`,
				`[class*="stop-generating"]`,
				`[class*="stopBtn"]`,
			},
			// [class*="typing"] stays matched after generation ends on this site
			RoleLoading: {
				`[class*="loading"]`,
				`[class*="generating"]`,
			},
			RoleLoggedIn: {
				`[class*="chat-input"]`,
				`textarea[class*="input"]`,
				`[class*="ChatInput"]`,
			},
			RoleNotLoggedIn: {
				`xpath=//a[contains(normalize-space(.), '登录')]`,
				`xpath=//button[contains(normalize-space(.), '登录')]`,
				`[class*="login-btn"]`,
				`[class*="LoginBtn"]`,
			},
			RoleAttachTrigger: {
				`button[aria-label*="图片"]`,
				`[class*="image-btn"]`,
				`[class*="imageBtn"]`,
				`[class*="img-upload"]`,
			},
			RoleAttachMenuItem: {
				`text=上传本地图片`,
				`xpath=//span[contains(normalize-space(.), '上传本地图片')]`,
				`xpath=//*[contains(@class, 'menu')]//*[normalize-space(text())='上传本地图片']`,
			},
			RoleImagePreview: {
				`[class*="image-preview"]`,
				`[class*="imagePreview"]`,
				`[class*="preview"] img`,
				`img[class*="upload"]`,
			},
			RoleNewChat: {
				`button[aria-label*="新对话"]`,
				`button[aria-label*="新建"]`,
				`[class*="new-chat"]`,
				`[class*="newChat"]`,
			},
		},
		TransientPhrases: DefaultTransientPhrases,
		SubmitWith:       SubmitEnter,
		AttachOpen:       AttachClick,
		AnswerFormat:     FormatText,
	},
	"qwen": {
		Name: "qwen",
		URL:  "https://www.qianwen.com/chat",
		Selectors: SelectorTable{
			RoleInput: {
				`textarea[id="chat-input"]`,
				`textarea[placeholder*="输入"]`,
				`textarea[placeholder*="消息"]`,
				`div[contenteditable="true"]`,
				`#chat-input`,
			},
			RoleSend: {
				`button[id="send-button"]`,
				`button[type="submit"]`,
				`button[aria-label*="发送"]`,
				`button[class*="send"]`,
				`[class*="sendBtn"]`,
				`[class*="send-btn"]`,
			},
			RoleAssistantMessage: {
				`[class*="assistant"]`,
				`[class*="bot-message"]`,
				`[data-role="assistant"]`,
				`.response-content`,
			},
			RoleStop: {
				`button[aria-label*="停止"]`,
				`button[class*="stop"]`,
				`[class*="stop-generating"]`,
			},
			RoleLoading: {
				`[class*="loading"]`,
				`[class*="typing"]`,
				`[class*="generating"]`,
				`.spinner`,
			},
			RoleLoggedIn: {
				`textarea[id="chat-input"]`,
				`textarea[placeholder*="输入"]`,
				`[class*="chat-input"]`,
				`#chat-input`,
			},
			RoleNotLoggedIn: {
				`text=立即登录`,
				`xpath=//button[contains(normalize-space(.), '登录')]`,
			},
			RoleAttachTrigger: {
				`button[aria-label*="附件"]`,
				`[class*="attachment"]`,
				`[class*="upload-btn"]`,
			},
			RoleAttachMenuItem: {
				`text=上传图片`,
				`xpath=//*[contains(@class, 'menu')]//*[contains(normalize-space(.), '上传图片')]`,
			},
			RoleImagePreview: {
				`[class*="image-preview"]`,
				`[class*="preview"] img`,
				`img[class*="upload"]`,
			},
			RoleNewChat: {
				`button[aria-label*="新对话"]`,
				`button[aria-label*="新建"]`,
				`[class*="new-chat"]`,
				`a[href="/chat"]`,
			},
		},
		TransientPhrases: DefaultTransientPhrases,
		SubmitWith:       SubmitButton,
		AttachOpen:       AttachHover,
		AnswerFormat:     FormatText,
	},
}

// Builtin returns a copy of the named builtin profile.
func Builtin(name string) (*Profile, error) {
	p, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("site: unknown builtin profile %q (known: %v)", name, BuiltinNames())
	}
	return p.Clone(), nil
}

// BuiltinNames lists the builtin profile names, sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
