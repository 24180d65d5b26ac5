package summarizer

const summarizePrompt = `You are a memory consolidator for a conversational agent. The numbered log entries below come from one window of conversation. Produce a single concise summary that captures the facts, preferences, and decisions worth keeping.

Each entry carries an importance weight between 0 and 1. Weight high-importance entries more heavily; drop filler.

Entries:
%s

Respond with ONLY the summary text. No explanation, no formatting.`
