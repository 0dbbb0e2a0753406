// Package tideline drives conversation turns against language models.
//
// A turn takes the user's text and attachments, describes images and
// extracts documents, optionally searches the web, assembles and trims the
// request to the chat model's context length, streams the answer into an
// assistant message and rewrites numeric citations into links to the
// gathered pages. A running turn can be cancelled at any point; its partial
// output is persisted before the cancellation returns.
//
// # Quick Start
//
//	chat := openaicompat.NewProvider(apiKey, "gpt-4o-mini", baseURL)
//	models := tideline.NewModelRegistry(
//		tideline.Model{ID: "chat", Provider: chat, ContextLength: 128000, Capabilities: tideline.CapTools | tideline.CapVisual},
//	)
//	store, _ := sqlite.New("tideline.db")
//	conv, _ := tideline.NewConversation(ctx, store, "New Conversation")
//
//	session, err := tideline.NewSession(ctx, store, models, conv.ID,
//		tideline.WithModelDefaults(tideline.ModelDefaults{Chat: "chat", Auxiliary: "chat"}),
//		tideline.WithSearchEngine(search.New(braveKey)),
//	)
//
//	turn := session.Submit(ctx, tideline.TurnInput{
//		Text:    "What's the weather in Tokyo?",
//		Options: tideline.TurnOptions{Browsing: true},
//	}, func(m tideline.InferenceMessage) { render(m.Content) })
//	err = turn.Wait()
//
// # Core Interfaces
//
//   - [Provider]: chat completion backend (Chat, ChatStream)
//   - [Store]: persistence of conversations, messages and attachments
//   - [SearchEngine]: web search and page fetching
//   - [Tool]: function the chat model may call
//   - [MemoryProvider]: proactive memory context
//   - [Encoder]: token encoder used for context budgeting
//
// # Included Implementations
//
// Providers: provider/openaicompat. Storage: store/sqlite, store/postgres.
// Memory: memory/sqlite with tools/memory. Search: tools/search (Brave and
// readability). Attachments: ingest/pdf, recognize. Tokens:
// tokenizer/tiktoken. Telemetry: observer.
//
// See cmd/tideline for a terminal client.
package tideline
