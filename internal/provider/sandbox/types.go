package sandbox

// accountRequest is the body posted to the account API's /user endpoint.
type accountRequest struct {
	Requestor string `json:"requestor"`
	Version   string `json:"version"`
}

// accountResponse is the account API's reply.
type accountResponse struct {
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	User   string         `json:"user"`
	Pass   string         `json:"pass"`
	SMTP   serverSettings `json:"smtp"`
	Web    string         `json:"web"`
}

// serverSettings describes the SMTP endpoint of the account.
type serverSettings struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Secure bool   `json:"secure"`
}
