package needs

var BuildResponseSchema = buildResponseSchema
