package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// ClientIDHeaderName tags outbound requests with the originating client.
const ClientIDHeaderName = "client_id"

// ClientIDHTTPHeader carries the client id on HTTP requests.
const ClientIDHTTPHeader = "X-Client-Id"
