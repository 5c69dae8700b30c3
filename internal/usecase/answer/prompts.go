package answer

// DefaultSystemPrompt forces JSON-only replies from the chat model.
const DefaultSystemPrompt = "You are a helpful finance domain assistant. " +
	"You MUST ALWAYS respond with valid JSON matching the requested schema. " +
	"Do not include any prose outside JSON."

const reformPrompt = `You reformulate finance user queries into a precise, self-contained search query.
Return JSON: {"reformulated": "string"}
If already precise, repeat it.
`

const docSelectPrompt = `You are given candidate document summaries with relevance scores (higher means more relevant).
Select the minimal subset that likely contains the answer; prefer higher scores when in doubt.
Return JSON: {"chosen_doc_ids": ["doc-..."], "reason": "string"}. If absolutely none relate, return an empty list and explain briefly.
`

const chunkFilterPrompt = `Given a user query and candidate chunks (text with IDs), select the IDs that are relevant. Also decide if question is answerable now.
Return JSON: {"relevant_chunk_ids": ["chunk-..."], "answerable": true/false, "missing_info_query": "string", "reason": "string"}
If not answerable, craft missing_info_query to retrieve new info.
`

const finalAnswerPrompt = `You are a finance QA assistant. Use only the provided chunks to answer. You may perform calculations. Return JSON: {"answer": "string", "reasoning": "string"}.
If numeric, include numeric form in answer.
`

const (
	reformSchema = `{"reformulated":"string"}`
	selectSchema = `{"chosen_doc_ids":[],"reason":"string"}`
	filterSchema = `{"relevant_chunk_ids":[],"answerable":false,"missing_info_query":"string","reason":"string"}`
	finalSchema  = `{"answer":"string","reasoning":"string"}`
)
