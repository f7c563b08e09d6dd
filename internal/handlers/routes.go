package handlers

import "github.com/go-chi/chi/v5"

// Routes mounts the whole command surface under the given router.
func Routes(r chi.Router) {
	r.Get("/health", HealthCheck)
	r.Get("/events", EventStream)
	r.Get("/logs", GetLogs)
	r.Delete("/logs", ClearLogs)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", ListSessions)
		r.Post("/", CreateSession)
		r.Post("/import", ImportSessions)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", GetSession)
			r.Put("/", UpdateSession)
			r.Delete("/", RemoveSession)
			r.Post("/connect", ConnectSession)
			r.Post("/disconnect", DisconnectSession)

			r.Route("/channels", func(r chi.Router) {
				r.Get("/", ListChannels)
				r.Post("/", CreateChannel)
				r.Route("/{channelID}", func(r chi.Router) {
					r.Delete("/", DestroyChannel)
					r.Post("/send", SendChannel)
					r.Get("/transcript", ChannelTranscript)
				})
			})
		})
	})

	r.Route("/fs/{sessionID}", func(r chi.Router) {
		r.Get("/list", ListFiles)
		r.Get("/home", HomeDirectory)
		r.Post("/get", GetFile)
		r.Post("/put", PutFile)
		r.Post("/mkdir", MkdirFile)
		r.Post("/remove", RemoveFile)
	})

	r.Route("/snippets", func(r chi.Router) {
		r.Get("/", ListSnippets)
		r.Post("/", CreateSnippet)
		r.Put("/{id}", UpdateSnippet)
		r.Delete("/{id}", RemoveSnippet)
	})

	r.Get("/audit", QueryAudit)
}
