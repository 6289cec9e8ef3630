package handler

const errInternalServer = "internal server error"
