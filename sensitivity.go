package tideline

import "fmt"

// SearchSensitivity controls how eagerly the query generator decides that
// a web search is needed.
type SearchSensitivity string

const (
	SensitivityEssential SearchSensitivity = "essential"
	SensitivityBalanced  SearchSensitivity = "balanced"
	SensitivityProactive SearchSensitivity = "proactive"
)

// ParseSearchSensitivity maps a configuration value to a sensitivity.
// The empty string selects SensitivityBalanced.
func ParseSearchSensitivity(s string) (SearchSensitivity, error) {
	switch SearchSensitivity(s) {
	case "":
		return SensitivityBalanced, nil
	case SensitivityEssential, SensitivityBalanced, SensitivityProactive:
		return SearchSensitivity(s), nil
	}
	return "", fmt.Errorf("unknown search sensitivity %q", s)
}

func (s SearchSensitivity) Title() string {
	switch s {
	case SensitivityEssential:
		return "Essential"
	case SensitivityProactive:
		return "Proactive"
	}
	return "Balanced"
}

func (s SearchSensitivity) BriefDescription() string {
	switch s {
	case SensitivityEssential:
		return "Search the web only when the answer depends on information you cannot know, such as recent events or live data."
	case SensitivityProactive:
		return "Search the web whenever fresh or verifiable sources could improve the answer, and cite them."
	}
	return "Search the web when the question involves facts that may have changed or that benefit from sources."
}

const queryOutputFormat = `Respond with XML only, in this exact format:
<web_search_response>
<search_required>true or false</search_required>
<queries>
<query>first search query</query>
</queries>
</web_search_response>

Each query must be between 2 and 25 characters. Return at most 3 queries, in the language most likely to find good results. When no search is required, return an empty <queries/> element.`

// PromptTemplate is the task description given to the query generator.
func (s SearchSensitivity) PromptTemplate() string {
	var policy string
	switch s {
	case SensitivityEssential:
		policy = "Decide whether answering the user's latest input strictly requires a web search. Only require a search for recent events, live data, or facts you cannot answer reliably from general knowledge. Greetings, creative writing, coding help, and questions answered by the attached documents never require a search."
	case SensitivityProactive:
		policy = "Decide whether a web search would improve the answer to the user's latest input. Prefer searching: require a search for any factual question, product, place, person, event, or topic where current or citable sources add value. Skip it only for small talk and purely creative requests."
	default:
		policy = "Decide whether answering the user's latest input needs a web search. Require a search for time-sensitive topics, specific facts, names, numbers, or anything likely to have changed. Skip it for small talk, reasoning tasks, or content already covered by the conversation or attached documents."
	}
	return "You are a search query generator. " + policy + "\n\nIf a search is required, write short, specific keyword queries that together cover what the user needs.\n\n" + queryOutputFormat
}
