package realtime

import "strings"

// Tool is a function declaration exposed to the speech backend. All of the
// service's tools take no parameters; the callback surface derives what it
// needs from the call itself.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

// ToolParameters is the JSON-schema parameter block of a tool.
type ToolParameters struct {
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties"`
	Required   []string          `json:"required"`
}

func noParams() ToolParameters {
	return ToolParameters{Type: "object", Properties: map[string]string{}, Required: []string{}}
}

// DefaultTools returns the function declarations offered on every session.
func DefaultTools() []Tool {
	return []Tool{
		{
			Type:        "function",
			Name:        "send_website_link",
			Description: "Send a text message with a link to the company website homepage. Use this when the caller asks for general information, wants to visit the website, or learn more about the company. The link will be sent via SMS to the caller's phone number (which is automatically retrieved from the call). You don't need to provide any parameters.",
			Parameters:  noParams(),
		},
		{
			Type:        "function",
			Name:        "send_request_form",
			Description: "Send a text message with a link to the request form. Use this when a new lead or existing client needs to fill out the request form to provide their service details, book a service, request a quote, or schedule cleaning. The form link will be sent via SMS to the caller's phone number (which is automatically retrieved from the call). You don't need to provide any parameters.",
			Parameters:  noParams(),
		},
		{
			Type:        "function",
			Name:        "send_gift_card_form",
			Description: "Send a text message with a link to the gift card purchase form. Use this when the caller asks about gift cards, purchasing gift cards, buying gift cards, or sending gift cards. The gift card form link will be sent via SMS to the caller's phone number (which is automatically retrieved from the call). You don't need to provide any parameters.",
			Parameters:  noParams(),
		},
		{
			Type:        "function",
			Name:        "end_call",
			Description: "End the current phone call. IMPORTANT: Before calling this function, you MUST say a polite goodbye to the caller (e.g., 'Thank you for calling, have a great day!' or 'Thanks for your time, goodbye!'). Only call this function AFTER you have finished speaking your goodbye message. Use this when the conversation is complete, the objectives have been achieved, or when the caller wants to end the call. This will gracefully terminate the call. You don't need to provide any parameters.",
			Parameters:  noParams(),
		},
	}
}

// BuildInstructions composes the session instructions. Without objectives
// (incoming calls) the base instructions are used verbatim; with objectives
// (outgoing calls dialed by an admin) an objectives block is prepended that
// takes precedence over the base greeting format.
func BuildInstructions(base string, objectives []string) string {
	var valid []string
	for _, o := range objectives {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			valid = append(valid, trimmed)
		}
	}
	if len(valid) == 0 {
		return base
	}

	var combined strings.Builder
	for i, o := range valid {
		if i > 0 {
			combined.WriteString("\n")
		}
		combined.WriteString("- ")
		combined.WriteString(o)
	}

	var b strings.Builder
	b.WriteString("**PRIMARY CALL OBJECTIVES (HIGHEST PRIORITY):**\n")
	b.WriteString(combined.String())
	b.WriteString("\n\n")
	b.WriteString("These objectives define the purpose of this call. Use your judgment to determine the best conversation flow:\n\n")
	b.WriteString("**For most calls:** Start with a brief introduction, ask if they have time, then discuss the objectives.\n")
	b.WriteString("**For urgent/time-sensitive matters:** You may address the objectives immediately after a quick greeting.\n")
	b.WriteString("**For casual/friendly topics:** A warm greeting and check-in before discussing objectives is appropriate.\n\n")
	b.WriteString("Adapt your opening naturally based on the urgency, importance, and nature of the objectives. ")
	b.WriteString("The key is to be respectful of their time while ensuring the objectives are addressed. ")
	b.WriteString("Use natural human conversation flow - sometimes you greet first, sometimes you get straight to the point.\n\n")
	b.WriteString("**CRITICAL - NO REPETITION:** Once you've introduced yourself and stated the purpose, NEVER repeat your introduction or the same information. ")
	b.WriteString("After the caller responds (especially with 'Yes' or confirmation), move the conversation forward IMMEDIATELY. ")
	b.WriteString("Do NOT reintroduce yourself. Do NOT restate what you already said. Do NOT ask the same question again. ")
	b.WriteString("Instead, acknowledge their response briefly and proceed with the next logical step. ")
	b.WriteString("If they've confirmed, provide additional details, ask specific follow-up questions, or move to completing the objective. ")
	b.WriteString("Example: If you said 'Do you have a moment?' and they said 'Yes', respond with 'Great, [then provide the information or ask the next question]' - NOT another introduction or the same question.\n\n")
	b.WriteString("If these objectives conflict with any general instructions below, these objectives take precedence.\n\n")
	b.WriteString(base)
	b.WriteString("\n\n")
	b.WriteString("**IMPORTANT:** The PRIMARY CALL OBJECTIVES above take priority over ALL general instructions, ")
	b.WriteString("including the greeting format. Use your judgment to determine the most appropriate conversation flow. ")
	b.WriteString("NEVER repeat your introduction or the same information you've already shared. Always move the conversation forward after getting a response.")
	return b.String()
}
