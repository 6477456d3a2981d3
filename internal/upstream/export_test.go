package upstream

var CallJSON = (*Client).call
