package remotehttp

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/rdfio"
	"github.com/quillgraph/quill/internal/remote"
)

// Client forwards Connection-shaped operations to a Server mounted by a
// remote engine process, as built by Connection.open_remote(uri).
type Client struct {
	baseURL string
	http    *http.Client
}

// Dial builds a Client against a remote engine's HTTP binding.
func Dial(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *Client) post(path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return quillerr.New(quillerr.KindInternal, err, "encode request body")
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return quillerr.New(quillerr.KindIO, err, "call %s", path)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return quillerr.New(quillerr.KindInternal, nil, "%s: %s", path, string(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Query runs sparql remotely and returns its wire-format result.
func (c *Client) Query(sparql string, params []string) (remote.QueryResult, error) {
	var res remote.QueryResult
	err := c.post("/query", remote.QueryRequest{SPARQL: sparql, Params: params}, &res)
	return res, err
}

// Update runs sparql remotely.
func (c *Client) Update(sparql string, params []string) error {
	return c.post("/update", remote.UpdateRequest{SPARQL: sparql, Params: params}, nil)
}

// UpdateBlank runs sparql remotely and returns its blank-node mapping.
func (c *Client) UpdateBlank(sparql string, params []string) ([]map[string]string, error) {
	var out []map[string]string
	err := c.post("/update_blank", remote.UpdateRequest{SPARQL: sparql, Params: params}, &out)
	return out, err
}

// Deserialise uploads document for bulk import in the given format.
func (c *Client) Deserialise(document string, format rdfio.Format) error {
	return c.post("/deserialise", remote.DeserialiseRequest{Format: string(format), Document: document}, nil)
}

// Serialise fetches the CONSTRUCT/DESCRIBE result of sparql rendered in
// format.
func (c *Client) Serialise(sparql string, params []string, format rdfio.Format) (string, error) {
	data, err := json.Marshal(remote.SerialiseRequest{SPARQL: sparql, Params: params, Format: string(format)})
	if err != nil {
		return "", quillerr.New(quillerr.KindInternal, err, "encode request body")
	}
	resp, err := c.http.Post(c.baseURL+"/serialise", "application/json", bytes.NewReader(data))
	if err != nil {
		return "", quillerr.New(quillerr.KindIO, err, "call /serialise")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", quillerr.New(quillerr.KindIO, err, "read /serialise response")
	}
	if resp.StatusCode >= 300 {
		return "", quillerr.New(quillerr.KindInternal, nil, "serialise: %s", string(body))
	}
	return string(body), nil
}

// Subscribe connects to /subscribe and calls handler for each streamed
// notification until the connection closes or the returned stop function
// is called.
func (c *Client) Subscribe(classes []string, handler func(class string, subject int64, kind string)) (stop func(), err error) {
	u := c.baseURL + "/subscribe?"
	for i, cls := range classes {
		if i > 0 {
			u += "&"
		}
		u += "class=" + cls
	}
	resp, err := c.http.Get(u)
	if err != nil {
		return nil, quillerr.New(quillerr.KindIO, err, "dial /subscribe")
	}
	done := make(chan struct{})
	go func() {
		dec := json.NewDecoder(resp.Body)
		for {
			var n notification
			if derr := dec.Decode(&n); derr != nil {
				return
			}
			select {
			case <-done:
				return
			default:
				handler(n.Class, n.Subject, n.Kind)
			}
		}
	}()
	return func() {
		close(done)
		resp.Body.Close()
	}, nil
}
